package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"binsim/internal/model"
)

// Config is the fully-parsed simulation configuration. The core consumes it
// as a struct; no other package touches the config file.
type Config struct {
	Grid       Grid       `yaml:"grid"`
	Locations  Locations  `yaml:"locations"`
	Time       TimeCfg    `yaml:"time"`
	Events     Events     `yaml:"random_events"`
	Agents     Agents     `yaml:"agents"`
	Announce   Announce   `yaml:"announce"`
	Simulation Simulation `yaml:"simulation"`
	Server     Server     `yaml:"server"`
}

type Grid struct {
	Size int `yaml:"size"`
}

type Locations struct {
	Depot        Site   `yaml:"depot"`
	FuelStations []Site `yaml:"fuel_stations"`
}

type Site struct {
	Position [2]int `yaml:"position"`
}

func (s Site) Pos() model.Position { return model.Position{X: s.Position[0], Y: s.Position[1]} }

type TimeCfg struct {
	RushHours struct {
		Morning Window `yaml:"morning"`
		Evening Window `yaml:"evening"`
	} `yaml:"rush_hours"`
}

type Window struct {
	Start      int     `yaml:"start"`
	End        int     `yaml:"end"` // inclusive
	Multiplier float64 `yaml:"traffic_multiplier"`
}

func (w Window) Contains(hour int) bool { return hour >= w.Start && hour <= w.End }

type Events struct {
	AccidentProbability float64    `yaml:"accident_probability"`
	RoadworkProbability float64    `yaml:"roadwork_probability"`
	Accident            EventKind  `yaml:"accident"`
	Roadwork            EventKind  `yaml:"roadwork"`
	Radius              int        `yaml:"radius"`
	Duration            BoundsInt  `yaml:"duration"`
	ActiveHours         ActiveSpan `yaml:"active_hours"`
}

type EventKind struct {
	Multiplier float64 `yaml:"traffic_multiplier"`
}

type BoundsInt struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ActiveSpan gates incident generation to daytime hours.
type ActiveSpan struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

type Agents struct {
	Counts struct {
		Bins   int `yaml:"bins"`
		Trucks int `yaml:"trucks"`
	} `yaml:"counts"`
	Bin   BinCfg   `yaml:"bin"`
	Truck TruckCfg `yaml:"truck"`
}

type BinCfg struct {
	Capacity    float64 `yaml:"capacity"`
	Threshold   float64 `yaml:"threshold"` // fraction of capacity
	FillRate    Bounds  `yaml:"fill_rate"`
	MinDistance int     `yaml:"min_distance"`
}

type TruckCfg struct {
	Speed int `yaml:"speed"` // cells per tick
	Waste struct {
		Capacity  float64 `yaml:"capacity"`
		Threshold float64 `yaml:"threshold"` // depot-return fraction
	} `yaml:"waste"`
	Fuel struct {
		Capacity    float64 `yaml:"capacity"`
		Consumption float64 `yaml:"consumption"` // per cell moved
		Threshold   float64 `yaml:"threshold"`   // reserve fraction
	} `yaml:"fuel"`
	Malfunction struct {
		Probability float64   `yaml:"probability"`
		Duration    BoundsInt `yaml:"duration"` // repair ticks
	} `yaml:"malfunction"`
}

type Announce struct {
	WindowTicks   int64 `yaml:"window_ticks"`
	MaxRetries    int   `yaml:"max_retries"`
	CooldownTicks int64 `yaml:"retry_cooldown_ticks"`
}

type Simulation struct {
	Days int   `yaml:"days"`
	Seed int64 `yaml:"seed"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// Load reads and validates a configuration file, applying defaults for any
// omitted fields. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a runnable baseline configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Grid.Size = 10
	cfg.Locations.Depot = Site{Position: [2]int{5, 5}}
	cfg.Locations.FuelStations = []Site{{Position: [2]int{1, 1}}, {Position: [2]int{8, 8}}}
	cfg.Time.RushHours.Morning = Window{Start: 7, End: 9, Multiplier: 1.5}
	cfg.Time.RushHours.Evening = Window{Start: 17, End: 19, Multiplier: 1.8}
	cfg.Events.AccidentProbability = 0.05
	cfg.Events.RoadworkProbability = 0.03
	cfg.Events.Accident.Multiplier = 2.0
	cfg.Events.Roadwork.Multiplier = 1.5
	cfg.Events.Radius = 2
	cfg.Events.Duration = BoundsInt{Min: 2, Max: 4}
	cfg.Events.ActiveHours = ActiveSpan{Start: 6, End: 20}
	cfg.Agents.Counts.Bins = 5
	cfg.Agents.Counts.Trucks = 2
	cfg.Agents.Bin = BinCfg{Capacity: 100, Threshold: 0.8, FillRate: Bounds{Min: 5, Max: 15}, MinDistance: 2}
	cfg.Agents.Truck.Speed = 3
	cfg.Agents.Truck.Waste.Capacity = 200
	cfg.Agents.Truck.Waste.Threshold = 0.8
	cfg.Agents.Truck.Fuel.Capacity = 100
	cfg.Agents.Truck.Fuel.Consumption = 0.5
	cfg.Agents.Truck.Fuel.Threshold = 0.2
	cfg.Agents.Truck.Malfunction.Probability = 0.01
	cfg.Agents.Truck.Malfunction.Duration = BoundsInt{Min: 2, Max: 4}
	cfg.Announce = Announce{WindowTicks: 2, MaxRetries: 5, CooldownTicks: 4}
	cfg.Simulation = Simulation{Days: 7, Seed: 8}
	cfg.Server.Addr = ":8080"
	return cfg
}

// Validate rejects configurations the simulation cannot run with.
func (c *Config) Validate() error {
	if c.Grid.Size < 2 {
		return fmt.Errorf("grid.size must be at least 2, got %d", c.Grid.Size)
	}
	if !c.inBounds(c.Locations.Depot.Pos()) {
		return fmt.Errorf("depot %v outside grid", c.Locations.Depot.Pos())
	}
	if len(c.Locations.FuelStations) == 0 {
		return fmt.Errorf("at least one fuel station required")
	}
	for _, s := range c.Locations.FuelStations {
		if !c.inBounds(s.Pos()) {
			return fmt.Errorf("fuel station %v outside grid", s.Pos())
		}
	}
	if c.Agents.Counts.Bins < 1 || c.Agents.Counts.Trucks < 1 {
		return fmt.Errorf("need at least one bin and one truck")
	}
	if c.Agents.Bin.Capacity <= 0 {
		return fmt.Errorf("bin capacity must be positive, got %v", c.Agents.Bin.Capacity)
	}
	if c.Agents.Bin.Threshold <= 0 || c.Agents.Bin.Threshold > 1 {
		return fmt.Errorf("bin threshold must be in (0,1], got %v", c.Agents.Bin.Threshold)
	}
	if c.Agents.Bin.FillRate.Min < 0 || c.Agents.Bin.FillRate.Max < c.Agents.Bin.FillRate.Min {
		return fmt.Errorf("invalid bin fill_rate bounds")
	}
	if c.Agents.Bin.FillRate.Max <= 0 {
		return fmt.Errorf("bin fill_rate max must be positive")
	}
	if c.Agents.Truck.Speed < 1 {
		return fmt.Errorf("truck speed must be at least 1")
	}
	if c.Agents.Truck.Waste.Capacity <= 0 {
		return fmt.Errorf("truck waste capacity must be positive, got %v", c.Agents.Truck.Waste.Capacity)
	}
	if c.Agents.Truck.Fuel.Capacity <= 0 {
		return fmt.Errorf("truck fuel capacity must be positive, got %v", c.Agents.Truck.Fuel.Capacity)
	}
	if c.Agents.Truck.Fuel.Consumption <= 0 {
		return fmt.Errorf("fuel consumption must be positive")
	}
	if c.Agents.Truck.Fuel.Threshold < 0 || c.Agents.Truck.Fuel.Threshold >= 1 {
		return fmt.Errorf("fuel threshold must be in [0,1)")
	}
	if c.Agents.Truck.Waste.Threshold <= 0 || c.Agents.Truck.Waste.Threshold > 1 {
		return fmt.Errorf("waste threshold must be in (0,1]")
	}
	if c.Announce.WindowTicks < 1 {
		return fmt.Errorf("announce window must be at least 1 tick")
	}
	if c.Announce.MaxRetries < 0 {
		return fmt.Errorf("announce max_retries must not be negative")
	}
	if c.Simulation.Days < 1 {
		return fmt.Errorf("simulation days must be at least 1")
	}
	return nil
}

func (c *Config) inBounds(p model.Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < c.Grid.Size && p.Y < c.Grid.Size
}

// TotalTicks is the run length: one tick per simulated hour.
func (c *Config) TotalTicks() int64 { return int64(c.Simulation.Days) * 24 }
