package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docmerge/internal/model"
	"docmerge/internal/service"
)

// readSubmission collects the flat form bindings and uploaded files of a
// request. Files are returned in the order their parts appear in the body.
func readSubmission(c *fiber.Ctx) (service.Submission, error) {
	sub := service.Submission{Fields: map[string][]string{}}

	ct := string(c.Request().Header.ContentType())
	if strings.HasPrefix(ct, fiber.MIMEMultipartForm) {
		return readMultipart(c.Body(), ct, sub)
	}

	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		key := string(k)
		sub.Fields[key] = append(sub.Fields[key], string(v))
	})
	return sub, nil
}

// readMultipart walks the parts sequentially. The parsed form Fiber offers
// is keyed by field name and loses the order across names.
func readMultipart(body []byte, contentType string, sub service.Submission) (service.Submission, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return sub, fmt.Errorf("content type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return sub, errors.New("content type: missing boundary")
	}

	r := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			return sub, nil
		}
		if err != nil {
			return sub, fmt.Errorf("next part: %w", err)
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return sub, fmt.Errorf("read part %q: %w", name, err)
		}

		if part.FileName() == "" {
			sub.Fields[name] = append(sub.Fields[name], string(data))
			continue
		}
		sub.Files = append(sub.Files, upload(name, part.FileName(), part.Header.Get("Content-Type"), data))
	}
}

func upload(field, filename, contentType string, data []byte) model.Upload {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return model.Upload{
		FieldName:   field,
		Filename:    filename,
		Size:        int64(len(data)),
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
