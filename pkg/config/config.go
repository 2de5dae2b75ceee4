// Package config is the configuration surface of the simulator.
//
// Two entry points share it: the in-process cluster runner loads a YAML
// scenario file describing the whole experiment, and the single-machine
// subcommand (one machine per OS process) reads its settings from the
// environment. Peer lists use the "id=addr,id=addr" form.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/daviddao/clocksim/pkg/vm"
)

// Duration lets scenario files write durations as "90s" or "2m". The
// yaml package only decodes integers into time.Duration, which nobody
// wants to write in nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts either a duration string ("90s") or a plain
// integer nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration: want a string like \"90s\" or an integer")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// TickRateRange is the inclusive range machines draw their tick rate
// from at startup. Min == Max pins the rate.
type TickRateRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// BandConfig is one band of the policy table in scenario-file form.
type BandConfig struct {
	Lo     int    `yaml:"lo"`
	Hi     int    `yaml:"hi"`
	Action string `yaml:"action"`
	Peer   int    `yaml:"peer"`
}

// Scenario describes one cluster run.
type Scenario struct {
	Machines int           `yaml:"machines"`
	TickRate TickRateRange `yaml:"tick_rate"`
	Duration Duration      `yaml:"duration"`
	DrawMax  int           `yaml:"draw_max"`
	Bands    []BandConfig  `yaml:"bands"`
	LogDir   string        `yaml:"log_dir"`
	Monitor  string        `yaml:"monitor"`
	Seed     int64         `yaml:"seed"`
}

// DefaultScenario is the classic experiment: three machines, tick rates
// drawn from 1..6, one minute, the default band policy.
func DefaultScenario() Scenario {
	def := vm.DefaultPolicy()
	s := Scenario{
		Machines: 3,
		TickRate: TickRateRange{Min: 1, Max: 6},
		Duration: Duration(time.Minute),
		DrawMax:  def.DrawMax,
		LogDir:   "logs",
	}
	for _, b := range def.Bands {
		s.Bands = append(s.Bands, BandConfig{Lo: b.Lo, Hi: b.Hi, Action: b.Action.String(), Peer: b.Peer})
	}
	return s
}

// LoadScenario reads a YAML scenario file, applying defaults for any
// field left unset.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	s := DefaultScenario()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Validate checks the scenario for values no run could use.
func (s Scenario) Validate() error {
	if s.Machines < 1 {
		return fmt.Errorf("machines: %d, want >= 1", s.Machines)
	}
	if s.TickRate.Min < 1 || s.TickRate.Max < s.TickRate.Min {
		return fmt.Errorf("tick_rate: min %d max %d, want 1 <= min <= max", s.TickRate.Min, s.TickRate.Max)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("duration: %s, want > 0", s.Duration)
	}
	if s.LogDir == "" {
		return fmt.Errorf("log_dir: empty")
	}
	if _, err := s.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy converts the scenario's band table into the loop's policy.
func (s Scenario) Policy() (vm.Policy, error) {
	p := vm.Policy{DrawMax: s.DrawMax}
	for i, b := range s.Bands {
		action, err := parseAction(b.Action)
		if err != nil {
			return vm.Policy{}, fmt.Errorf("band %d: %w", i, err)
		}
		p.Bands = append(p.Bands, vm.Band{Lo: b.Lo, Hi: b.Hi, Action: action, Peer: b.Peer})
	}
	if err := p.Validate(); err != nil {
		return vm.Policy{}, err
	}
	return p, nil
}

func parseAction(s string) (vm.Action, error) {
	switch s {
	case "internal", "":
		return vm.ActionInternal, nil
	case "send_one":
		return vm.ActionSendOne, nil
	case "send_all":
		return vm.ActionSendAll, nil
	default:
		return 0, fmt.Errorf("unknown action %q (want internal, send_one, or send_all)", s)
	}
}

// Env is the per-process machine configuration, for running one machine
// per OS process. Populated from CLOCKSIM_* environment variables; the
// subcommand's flags override individual fields afterwards.
type Env struct {
	MachineID int           `envconfig:"MACHINE_ID"`
	TickRate  int           `envconfig:"TICK_RATE"`
	Host      string        `envconfig:"HOST" default:"127.0.0.1"`
	BasePort  int           `envconfig:"BASE_PORT" default:"5000"`
	Peers     string        `envconfig:"PEERS"`
	LogDir    string        `envconfig:"LOG_DIR" default:"logs"`
	Duration  time.Duration `envconfig:"DURATION" default:"60s"`
}

// FromEnv reads the CLOCKSIM_* environment into an Env.
func FromEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("clocksim", &e); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	return e, nil
}

// ListenAddr is the address a machine listens on under the base-port
// scheme: port = base port + machine ID.
func (e Env) ListenAddr(machineID int) string {
	return fmt.Sprintf("%s:%d", e.Host, e.BasePort+machineID)
}

// PeerAddrs resolves the peer map for machineID. An explicit Peers list
// wins; otherwise peers are derived from the base-port scheme and the
// given cluster size.
func (e Env) PeerAddrs(machineID, machines int) (map[int]string, error) {
	if e.Peers != "" {
		peers, err := ParsePeers(e.Peers)
		if err != nil {
			return nil, err
		}
		delete(peers, machineID)
		return peers, nil
	}
	peers := make(map[int]string)
	for id := 1; id <= machines; id++ {
		if id == machineID {
			continue
		}
		peers[id] = e.ListenAddr(id)
	}
	return peers, nil
}

// ParsePeers parses a comma-separated peer list in the format
// "1=127.0.0.1:5001,2=127.0.0.1:5002".
func ParsePeers(peersStr string) (map[int]string, error) {
	peers := make(map[int]string)
	for _, part := range strings.Split(peersStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer %q (expected id=addr)", part)
		}
		id, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid peer ID %q: %w", kv[0], err)
		}
		addr := strings.TrimSpace(kv[1])
		if addr == "" {
			return nil, fmt.Errorf("peer %d: empty address", id)
		}
		if _, dup := peers[id]; dup {
			return nil, fmt.Errorf("peer %d listed twice", id)
		}
		peers[id] = addr
	}
	return peers, nil
}

// PeerIDs returns the sorted IDs of a peer map, for stable output.
func PeerIDs(peers map[int]string) []int {
	ids := make([]int, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
