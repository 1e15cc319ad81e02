package apexfile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
)

// PackOptions describes an uncompressed archive.
type PackOptions struct {
	Manifest  Manifest
	PublicKey []byte
	Payload   []byte
	// Signature is an optional detached OpenPGP signature over Payload.
	Signature []byte
}

// Pack writes an uncompressed archive to w.
func Pack(w io.Writer, opts PackOptions) error {
	if opts.Manifest.Name == "" {
		return fmt.Errorf("manifest has no name")
	}

	zw := zip.NewWriter(w)
	if err := writeManifest(zw, opts.Manifest); err != nil {
		return err
	}
	if err := writeEntry(zw, PublicKeyEntry, opts.PublicKey, zip.Store); err != nil {
		return err
	}
	if err := writeEntry(zw, PayloadEntry, opts.Payload, zip.Store); err != nil {
		return err
	}
	if len(opts.Signature) > 0 {
		if err := writeEntry(zw, SignatureEntry, opts.Signature, zip.Store); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalising archive: %w", err)
	}
	return nil
}

// PackCompressed writes a compressed archive to w holding original encoded
// with codec. The manifest must carry the original apex digest.
func PackCompressed(w io.Writer, manifest Manifest, publicKey []byte, original io.Reader, codec Codec) error {
	info, ok := codecs[codec]
	if !ok {
		return fmt.Errorf("unknown codec %q", codec)
	}
	if manifest.CapexMetadata == nil || manifest.CapexMetadata.OriginalApexDigest == "" {
		return fmt.Errorf("compressed apex %s needs an original apex digest", manifest.Name)
	}

	zw := zip.NewWriter(w)
	if err := writeManifest(zw, manifest); err != nil {
		return err
	}
	if err := writeEntry(zw, PublicKeyEntry, publicKey, zip.Store); err != nil {
		return err
	}

	fw, err := zw.CreateHeader(&zip.FileHeader{Name: info.entry, Method: info.method})
	if err != nil {
		return fmt.Errorf("creating %s: %w", info.entry, err)
	}
	enc, err := info.encode(fw)
	if err != nil {
		return fmt.Errorf("initialising %s encoder: %w", codec, err)
	}
	if _, err := io.Copy(enc, original); err != nil {
		enc.Close()
		return fmt.Errorf("compressing original apex: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing %s encoder: %w", codec, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalising archive: %w", err)
	}
	return nil
}

// CompressApex writes a compressed archive at dst holding the archive at src.
// The original digest is taken from the verified payload of src.
func CompressApex(src, dst string, codec Codec) error {
	apex, err := Open(src)
	if err != nil {
		return err
	}
	if apex.IsCompressed() {
		return fmt.Errorf("%s: %w", src, ErrCompressed)
	}
	digest, err := apex.VerifyAndGetRootDigest(apex.BundledPublicKey())
	if err != nil {
		return fmt.Errorf("verifying %s: %w", src, err)
	}

	manifest := apex.Manifest()
	manifest.CapexMetadata = &CapexMetadata{
		OriginalApexDigest:  digest,
		OriginalApexVersion: manifest.Version,
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := PackCompressed(out, manifest, apex.BundledPublicKey(), in, codec); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func writeManifest(zw *zip.Writer, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeEntry(zw, ManifestEntry, data, zip.Deflate)
}

func writeEntry(zw *zip.Writer, name string, data []byte, method uint16) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
