package ir

// Version constants for the program image and the runtime.
const (
	// ImageVersion is the CBOR program image format version.
	ImageVersion = 1

	// EngineVersion is the ncd runtime version.
	EngineVersion = "0.1.0"
)
