package config

// validate performs fail-fast validation over a fully-merged Config,
// mirroring tarsy's Validator.ValidateAll ordering: check each section in
// isolation, stop at the first failure.
func validate(cfg *Config) error {
	if err := validateHTTP(cfg.HTTP); err != nil {
		return err
	}
	if err := validateStore(cfg.Store); err != nil {
		return err
	}
	if err := validateCoordinator(cfg.Coordinator); err != nil {
		return err
	}
	if err := validateVerifier(cfg.Verifier); err != nil {
		return err
	}
	if err := validateAgentLoop(cfg.AgentLoop); err != nil {
		return err
	}
	if err := validateQueue(cfg.Queue); err != nil {
		return err
	}
	if err := validateSupervisor(cfg.Supervisor); err != nil {
		return err
	}
	if err := validateLLM(cfg.LLM); err != nil {
		return err
	}
	return nil
}

func validateHTTP(c HTTPConfig) error {
	if c.Addr == "" {
		return NewValidationError("http", "addr", errRequired)
	}
	return nil
}

func validateStore(c StoreConfig) error {
	if c.Host == "" {
		return NewValidationError("store", "host", errRequired)
	}
	if c.Database == "" {
		return NewValidationError("store", "database", errRequired)
	}
	if c.MaxOpenConns < 1 {
		return NewValidationError("store", "max_open_conns", errMustBePositive)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return NewValidationError("store", "max_idle_conns", errExceedsMaxOpen)
	}
	return nil
}

func validateCoordinator(c CoordinatorConfig) error {
	if c.DefaultLockDuration <= 0 {
		return NewValidationError("coordinator", "default_lock_duration", errMustBePositive)
	}
	return nil
}

func validateVerifier(c VerifierConfig) error {
	if c.TestBudget <= 0 {
		return NewValidationError("verifier", "test_budget", errMustBePositive)
	}
	return nil
}

func validateAgentLoop(c AgentLoopConfig) error {
	if c.MaxIterations < 1 {
		return NewValidationError("agent_loop", "max_iterations", errMustBePositive)
	}
	if c.MaxRunTime <= 0 {
		return NewValidationError("agent_loop", "max_run_time", errMustBePositive)
	}
	return nil
}

func validateQueue(c QueueConfig) error {
	if c.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", errMustBePositive)
	}
	if c.PollIntervalJitter >= c.PollInterval {
		return NewValidationError("queue", "poll_interval_jitter", errJitterTooLarge)
	}
	if c.MaxConcurrentAgents < 1 {
		return NewValidationError("queue", "max_concurrent_agents", errMustBePositive)
	}
	return nil
}

func validateSupervisor(c SupervisorConfig) error {
	if c.Interval <= 0 {
		return NewValidationError("supervisor", "interval", errMustBePositive)
	}
	return nil
}

// validateLLM allows the section to be entirely absent (the in-process
// runner is then disabled, e.g. a control-plane-only deployment fronting
// external runners over C5's HTTP API) but rejects a half-configured one.
func validateLLM(c LLMConfig) error {
	if c.BaseURL == "" && c.Model == "" {
		return nil
	}
	if c.BaseURL == "" {
		return NewValidationError("llm", "base_url", errRequired)
	}
	if c.Model == "" {
		return NewValidationError("llm", "model", errRequired)
	}
	return nil
}
