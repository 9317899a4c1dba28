package persist

import (
	"encoding/json"
	"io"
	"os"

	"github.com/oib/AITBC-sub002/build"
)

// Save saves json data to a writer, prefixed by the metadata header and
// version so that readers can detect the wrong file or an incompatible
// format before decoding the body.
func Save(meta Metadata, data interface{}, w io.Writer) error {
	b, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return build.ExtendErr("unable to marshal the provided data", err)
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(meta.Header); err != nil {
		return build.ExtendErr("unable to encode metadata header", err)
	}
	if err := enc.Encode(meta.Version); err != nil {
		return build.ExtendErr("unable to encode metadata version", err)
	}
	if _, err = w.Write(b); err != nil {
		return build.ExtendErr("unable to write data", err)
	}
	return nil
}

// Load loads json data from a reader, verifying the metadata first.
func Load(meta Metadata, data interface{}, r io.Reader) error {
	var header, version string
	dec := json.NewDecoder(r)
	if err := dec.Decode(&header); err != nil {
		return build.ExtendErr("unable to read header", err)
	}
	if header != meta.Header {
		return ErrBadHeader
	}
	if err := dec.Decode(&version); err != nil {
		return build.ExtendErr("unable to read version", err)
	}
	if version != meta.Version {
		return ErrBadVersion
	}
	remainingBytes, err := io.ReadAll(dec.Buffered())
	if err != nil {
		return build.ExtendErr("unable to read persisted data", err)
	}
	remainingBytesExtra, err := io.ReadAll(r)
	if err != nil {
		return build.ExtendErr("unable to read persisted data", err)
	}
	remainingBytes = append(remainingBytes, remainingBytesExtra...)
	return json.Unmarshal(remainingBytes, data)
}

// SaveFile atomically saves json data to a file: the data is written to a
// temp file which is synced and then renamed over the target.
func SaveFile(meta Metadata, data interface{}, filename string) error {
	tmp := filename + "_temp"
	file, err := os.OpenFile(tmp, os.O_RDWR|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return build.ExtendErr("unable to open temp file", err)
	}
	if err := Save(meta, data, file); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return build.ExtendErr("unable to sync temp file", err)
	}
	if err := file.Close(); err != nil {
		return build.ExtendErr("unable to close temp file", err)
	}
	return os.Rename(tmp, filename)
}

// LoadFile loads json data from a file.
func LoadFile(meta Metadata, data interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return Load(meta, data, file)
}
