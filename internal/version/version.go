// ABOUTME: Version and product identity
// ABOUTME: Reported by the CLI and in network sink hellos
package version

const (
	// Version is the release of this build
	Version = "0.3.0"

	// Product is the product name
	Product = "Resonate Direct"

	// Manufacturer is the vendor string
	Manufacturer = "Resonate"
)

// String returns "Product Version"
func String() string {
	return Product + " " + Version
}
