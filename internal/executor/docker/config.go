package docker

import "time"

// Config holds the sandbox limits shared by every runtime image.
type Config struct {
	MemoryLimit int64   // bytes
	CPULimit    float64 // CPUs, fractional
	PidsLimit   int64   // processes per container; stops fork bombs
	Timeout     time.Duration

	// MaxOutputBytes caps stdout and stderr separately. Anything beyond is
	// dropped and the stream is marked truncated.
	MaxOutputBytes int

	// PoolSize is the number of idle containers kept per image.
	PoolSize int
	// Images restricts which runtime images are pulled and pooled.
	// Empty means every image executor.Images reports.
	Images []string
}

func DefaultConfig() Config {
	return Config{
		MemoryLimit:    128 << 20,
		CPULimit:       0.5,
		PidsLimit:      64,
		Timeout:        5 * time.Second,
		MaxOutputBytes: 64 << 10,
		PoolSize:       2,
	}
}
