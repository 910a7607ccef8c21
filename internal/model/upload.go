package model

import "io"

// Upload describes one file received with the current request. The Open
// handle is only valid while the request is being served; once persisted,
// only the resulting storage path survives on the Record.
type Upload struct {
	FieldName   string
	Filename    string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}
