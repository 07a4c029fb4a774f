// File: pkg/common/provider.go
package common

// Provider names the backend a store talks to. The lowercase value is the
// name the provider registers under.
type Provider string

const (
	HTTP Provider = "http"
	AWS  Provider = "aws"
	GCP  Provider = "gcp"
)

func (p Provider) String() string {
	return string(p)
}

// Human-readable name for output
func (p Provider) DisplayName() string {
	switch p {
	case HTTP:
		return "HTTP"
	case AWS:
		return "AWS S3"
	case GCP:
		return "Google Cloud Storage"
	}
	return string(p)
}
