// Package storage handles the toolkit configuration stored on disk.
package storage

// Backend names accepted in the configuration.
const (
	BackendSoftware = "software"
	BackendFPGA     = "fpga"
)

// Config represents the recovery configuration stored in config.json
type Config struct {
	Version int    `json:"version"`
	Backend string `json:"backend"` // "software" or "fpga"

	// Serial device of the FPGA recovery core (fpga backend only)
	Device string `json:"device,omitempty"`

	// FirstMatch aborts the software pipeline on the first verified key
	FirstMatch bool `json:"firstMatch"`

	// DeepStages overrides the software pipeline extension depth; 0 = default
	DeepStages int `json:"deepStages,omitempty"`

	// ProbTable is the path of an optional index-ordering table
	ProbTable string `json:"probTable,omitempty"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	return &Config{
		Version:    1,
		Backend:    BackendSoftware,
		Device:     "/dev/ttyUSB1",
		FirstMatch: true,
	}
}
