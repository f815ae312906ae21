//go:build !linux && !darwin

package datasync

// DiskUsage on unsupported platforms (e.g. Windows) always reports "no data
// known" rather than failing — forge's container workloads run on Linux or
// macOS hosts; Windows is only ever a client.
func DiskUsage(path string) (Usage, error) {
	return Usage{Status: DiskOK}, nil
}
