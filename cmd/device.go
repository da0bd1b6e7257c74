package cmd

import (
	"fmt"

	"github.com/deploymenttheory/go-ltfs/internal/config"
	"github.com/deploymenttheory/go-ltfs/internal/tape"
	"github.com/deploymenttheory/go-ltfs/internal/volume"
	"github.com/deploymenttheory/go-ltfs/internal/xmlcodec"
)

// openVolume builds a Volume wrapping the simulated file-backed tape
// device at devicePath, loading backend options from configPath (or
// defaults) via the viper-based loader.
func openVolume() (*volume.Volume, error) {
	if devicePath == "" {
		return nil, fmt.Errorf("--device is required")
	}

	backendOpts, err := config.LoadBackendOptions(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading backend options: %w", err)
	}

	backend, err := tape.NewFileBackend(devicePath, backendOpts.ToTapeOptions())
	if err != nil {
		return nil, fmt.Errorf("opening simulated backend: %w", err)
	}

	dev := tape.NewDevice(backend)
	return volume.New(dev, xmlcodec.NewDefaultCodec()), nil
}
