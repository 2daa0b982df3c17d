package config

// Summary is a small, loggable snapshot of the resolved configuration.
type Summary struct {
	StorageBackend string
	SkillCacheDir  string
	Addr           string
}

// Summarize extracts the fields worth logging at startup.
func (c *Config) Summarize() Summary {
	return Summary{
		StorageBackend: c.StorageBackend,
		SkillCacheDir:  c.SkillCacheDir,
		Addr:           c.Addr,
	}
}
