package kdevice

import "os"

func openLocalFile(path string) (*os.File, error) { return os.Open(path) }

func fileSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
