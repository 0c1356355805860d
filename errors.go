package texrag

import "errors"

var (
	// ErrDocumentNotFound is returned when a document path or ID does not exist.
	ErrDocumentNotFound = errors.New("texrag: document not found")

	// ErrParsingFailed is returned when every parser in the chain failed.
	ErrParsingFailed = errors.New("texrag: parsing failed")

	// ErrInjectionFailed is returned when the marker working copy could
	// not be written. Unsupported PDF layouts degrade instead of failing.
	ErrInjectionFailed = errors.New("texrag: marker injection failed")

	// ErrMarkerLeakage is returned when marker tokens survive in the final
	// markdown beyond what the unresolved policy allows.
	ErrMarkerLeakage = errors.New("texrag: marker tokens leaked into final output")

	// ErrEmbeddingFailed is returned when embedding generation fails for
	// every chunk of a document.
	ErrEmbeddingFailed = errors.New("texrag: embedding generation failed")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("texrag: no results found")

	// ErrVisionRequired is returned when formula resolution is requested
	// but no vision provider is configured.
	ErrVisionRequired = errors.New("texrag: vision provider required for formula resolution")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("texrag: invalid configuration")
)
