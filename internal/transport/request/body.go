package request

import (
	"io"
	"mime"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/marketwire/internal/transport/fault"
)

// Body is one of StringBody, BytesBody, StreamBody, FileBody or MultipartBody.
type Body interface {
	// Replayable reports whether the body can be sent again on a 307/308.
	Replayable() bool
	isBody()
}

// StringBody is text content. Charset names the wire encoding; empty means UTF-8.
type StringBody struct {
	Content     string
	ContentType string
	Charset     string
}

// BytesBody is raw content sent as is.
type BytesBody struct {
	Data        []byte
	ContentType string
}

// StreamBody is read once. Length is the declared size; negative means unknown.
type StreamBody struct {
	Reader      io.Reader
	Length      int64
	ContentType string
}

// FileBody streams a single file as the request entity.
type FileBody struct {
	Path        string
	ContentType string

	size int64
}

// Size returns the file size recorded when the request was built.
func (f FileBody) Size() int64 {
	return f.size
}

// MultipartBody is a multipart/form-data entity of text fields and file parts.
type MultipartBody struct {
	Fields []Field
	Files  []FilePart
}

// Field is a text part.
type Field struct {
	Name  string
	Value string
}

// FilePart is a file part. FileName defaults to the base name of Path.
type FilePart struct {
	Name        string
	Path        string
	FileName    string
	ContentType string
}

func (StringBody) Replayable() bool    { return true }
func (BytesBody) Replayable() bool     { return true }
func (StreamBody) Replayable() bool    { return false }
func (FileBody) Replayable() bool      { return true }
func (MultipartBody) Replayable() bool { return true }

func (StringBody) isBody()    {}
func (BytesBody) isBody()     {}
func (StreamBody) isBody()    {}
func (FileBody) isBody()      {}
func (MultipartBody) isBody() {}

// JSONBody marshals v with sonic. Marshal failures are ErrUnsupportedEncoding.
func JSONBody(v any) (BytesBody, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return BytesBody{}, fault.New(fault.ErrUnsupportedEncoding, fault.PhaseBuild, "marshal json", "", err)
	}
	return BytesBody{Data: data, ContentType: "application/json; charset=UTF-8"}, nil
}

// prepare validates body and resolves everything that can fail before I/O:
// text encoding, file existence and missing content types.
func prepare(body Body) (Body, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case StringBody:
		return encodeString(b)
	case *StringBody:
		return encodeString(*b)
	case BytesBody:
		if b.ContentType == "" {
			b.ContentType = mimetype.Detect(b.Data).String()
		}
		return b, nil
	case StreamBody:
		if b.Reader == nil {
			b.Reader = strings.NewReader("")
			b.Length = 0
		}
		if b.ContentType == "" {
			b.ContentType = "application/octet-stream"
		}
		return b, nil
	case FileBody:
		info, err := statFile(b.Path)
		if err != nil {
			return nil, err
		}
		b.size = info.Size()
		if b.ContentType == "" {
			b.ContentType = detectFile(b.Path)
		}
		return b, nil
	case MultipartBody:
		files := make([]FilePart, len(b.Files))
		for i, part := range b.Files {
			if _, err := statFile(part.Path); err != nil {
				return nil, err
			}
			if part.ContentType == "" {
				part.ContentType = detectFile(part.Path)
			}
			files[i] = part
		}
		b.Files = files
		return b, nil
	default:
		return nil, fault.New(fault.ErrUnsupportedEncoding, fault.PhaseBuild, "body", "", nil)
	}
}

func encodeString(b StringBody) (Body, error) {
	contentType := b.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	name := b.Charset
	if name == "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			name = params["charset"]
		}
	}
	if name == "" {
		name = "UTF-8"
	}

	enc, canonical := charset.Lookup(name)
	if enc == nil {
		return nil, fault.New(fault.ErrUnsupportedEncoding, fault.PhaseBuild, "encode", "", errUnknownCharset(name))
	}

	data := []byte(b.Content)
	if canonical != "utf-8" {
		encoded, err := enc.NewEncoder().Bytes(data)
		if err != nil {
			return nil, fault.New(fault.ErrUnsupportedEncoding, fault.PhaseBuild, "encode", "", err)
		}
		data = encoded
	}

	return BytesBody{Data: data, ContentType: withCharset(contentType, name)}, nil
}

func withCharset(contentType, name string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	if params == nil {
		params = make(map[string]string)
	}
	params["charset"] = name
	return mime.FormatMediaType(mediaType, params)
}

func statFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fault.New(fault.ErrFileNotFound, fault.PhaseBuild, "attach", path, err)
	}
	if info.IsDir() {
		return nil, fault.New(fault.ErrFileNotFound, fault.PhaseBuild, "attach", path, errIsDirectory)
	}
	return info, nil
}

func detectFile(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}
