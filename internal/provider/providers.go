// File: internal/provider/providers.go
package provider

// Blank imports run each provider's init(), which registers it with the
// registry. A new provider only needs its package added here.

import (
	_ "objstore/pkg/storage/aws"
	_ "objstore/pkg/storage/gcp"
	_ "objstore/pkg/storage/httpstore"
)
