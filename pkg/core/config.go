package core

import "time"

// ArtifactURLs holds the download locations of the proving artifacts.
// The files are fetched lazily on INIT_PROVER and cached content-addressed.
type ArtifactURLs struct {
	CircuitWasm  string
	ProvingKey   string
	VerifyingKey string
	R1CS         string
}

type Config struct {
	// Chain configuration
	ChainRPC          string
	NetworkPassphrase string
	PoolContractID    string

	// Tree configuration
	Levels    int // pool and ASP membership tree depth
	SMTLevels int // ASP non-membership tree depth

	// Circuit configuration
	NIns   int
	NOuts  int
	EncLen int // fixed output-note ciphertext length

	// Prover configuration
	ArtifactURLs   ArtifactURLs
	ArtifactCache  string
	ProveTimeout   time.Duration
	RequestTimeout time.Duration
	SpawnTimeout   time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ChainRPC:          "http://localhost:8000/soroban/rpc",
		NetworkPassphrase: "Standalone Network ; February 2017",
		Levels:            5,
		SMTLevels:         5,
		NIns:              2,
		NOuts:             2,
		EncLen:            112,
		ArtifactCache:     "./artifact-cache",
		ProveTimeout:      120 * time.Second,
		RequestTimeout:    60 * time.Second,
		SpawnTimeout:      10 * time.Second,
	}
}
