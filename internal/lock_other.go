//go:build !unix

package internal

func processAlive(int) bool {
	return true
}
