package common

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type endpointsFile struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// LoadEndpoints reads a YAML document of the form
//
//	endpoints:
//	  - name: cache
//	    host: 10.0.0.7
//	    port: 6380
//	    pass: secret
//	    index: 2
//
// Missing ports default to 6379 and missing indexes to 0.
func LoadEndpoints(path string) ([]EndpointConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	return ParseEndpoints(data)
}

func ParseEndpoints(data []byte) ([]EndpointConfig, error) {
	var doc endpointsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Endpoints))
	for i := range doc.Endpoints {
		ep := &doc.Endpoints[i]
		ep.ApplyDefaults()
		if err := ep.Validate(); err != nil {
			return nil, err
		}
		name := ep.EndpointName()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate endpoint %q", name)
		}
		seen[name] = struct{}{}
	}
	return doc.Endpoints, nil
}

// RegisterCredentials stores the credential of every endpoint that has one.
func RegisterCredentials(store *CredentialStore, endpoints []EndpointConfig) {
	for i := range endpoints {
		if auth := endpoints[i].AuthInfo(); auth != nil {
			store.Set(endpoints[i].EndpointName(), auth)
		}
	}
}
