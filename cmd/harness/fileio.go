package main

import (
	"fmt"
	"os"

	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/serde"
)

func readTasksetFile(path string) (rtmodel.NamedTaskset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rtmodel.NamedTaskset{}, fmt.Errorf("read taskset file %s: %w", path, err)
	}

	return serde.ParseTaskset(string(data))
}

func readConfigFile(path string) (rtmodel.NamedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rtmodel.NamedConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	return serde.ParseConfig(string(data))
}
