package config

import "time"

// defaultConfig returns the compiled-in configuration used when fleet.yaml
// is absent or leaves a field unset, mirroring the teacher's
// DefaultQueueConfig/builtin-config pattern of one function returning a
// fully-populated struct that Load then merges user YAML on top of.
func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "fleet",
			Database:        "fleet",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 1 * time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		Coordinator: CoordinatorConfig{
			DefaultLockDuration: 1 * time.Hour,
		},
		Verifier: VerifierConfig{
			TestBudget:         5 * time.Minute,
			GoBinary:           "go",
			GolangciLintBinary: "golangci-lint",
		},
		AgentLoop: AgentLoopConfig{
			MaxIterations: 50,
			MaxRunTime:    30 * time.Minute,
		},
		Queue: QueueConfig{
			PollInterval:        1 * time.Second,
			PollIntervalJitter:  500 * time.Millisecond,
			MaxConcurrentAgents: 5,
		},
		Supervisor: SupervisorConfig{
			Interval: 30 * time.Second,
		},
		LLM: LLMConfig{
			Timeout: 2 * time.Minute,
		},
	}
}
