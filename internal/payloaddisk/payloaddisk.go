// Package payloaddisk builds and unpacks the GPT disk that carries archives
// into a VM. Partition 1 holds the metadata record and partition i+2 holds
// the archive described by metadata entry i.
package payloaddisk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/google/uuid"
	"github.com/open-edge-platform/apex-catalog/internal/blockdev"
	"github.com/open-edge-platform/apex-catalog/internal/metadata"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

const (
	sectorSize = uint64(diskfs.SectorSize512)
	// First usable LBA, 1 MiB aligned.
	firstLBA = uint64(2048)
	// Room for the backup GPT header and entries.
	trailerSectors = uint64(2048)
	maxNameLen     = 36
)

// PartitionInfo describes one partition of a payload disk.
type PartitionInfo struct {
	Name      string
	SizeBytes uint64
	StartLBA  uint64
	source    string
	data      []byte
}

// Build writes a payload disk to path holding the record m and the archives
// in apexPaths, which must line up with m.Apexes.
func Build(path string, m *metadata.Metadata, apexPaths []string) ([]PartitionInfo, error) {
	log := logger.Logger()

	if len(apexPaths) != len(m.Apexes) {
		return nil, fmt.Errorf("metadata lists %d apexes but %d files were given", len(m.Apexes), len(apexPaths))
	}

	record, err := metadata.Marshal(m)
	if err != nil {
		return nil, err
	}

	parts := []PartitionInfo{{Name: "payload-metadata", SizeBytes: alignToSector(uint64(len(record))), data: record}}
	for i, apexPath := range apexPaths {
		info, err := os.Stat(apexPath)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", apexPath, err)
		}
		parts = append(parts, PartitionInfo{
			Name:      partitionName(m.Apexes[i].Name),
			SizeBytes: alignToSector(uint64(info.Size())),
			source:    apexPath,
		})
	}

	cursor := firstLBA
	for i := range parts {
		parts[i].StartLBA = cursor
		cursor += parts[i].SizeBytes / sectorSize
	}
	diskSize := (cursor + trailerSectors) * sectorSize

	if err := createDiskFile(path, diskSize); err != nil {
		return nil, err
	}

	dsk, err := diskfs.Open(path, diskfs.WithSectorSize(diskfs.SectorSize512))
	if err != nil {
		return nil, fmt.Errorf("open payload disk: %w", err)
	}
	defer dsk.Close()

	table := &gpt.Table{
		LogicalSectorSize:  int(dsk.LogicalBlocksize),
		PhysicalSectorSize: int(dsk.PhysicalBlocksize),
		ProtectiveMBR:      true,
	}
	for _, p := range parts {
		table.Partitions = append(table.Partitions, &gpt.Partition{
			Start: p.StartLBA,
			Size:  p.SizeBytes,
			Type:  gpt.LinuxFilesystem,
			Name:  p.Name,
			GUID:  uuid.NewString(),
		})
	}
	if err := dsk.Partition(table); err != nil {
		return nil, fmt.Errorf("write GPT table: %w", err)
	}

	for i, p := range parts {
		if err := writePartition(dsk, i+1, p); err != nil {
			return nil, err
		}
		log.Debugf("Partition %d: %s, %d bytes at LBA %d", i+1, p.Name, p.SizeBytes, p.StartLBA)
	}
	log.Infof("Wrote payload disk %s with %d apexes", path, len(apexPaths))
	return parts, nil
}

type partitionWriter interface {
	WritePartitionContents(part int, reader io.Reader) (int64, error)
}

// writePartition streams p into partition index, zero padded to
// p.SizeBytes since go-diskfs rejects writes shorter than the partition.
func writePartition(dsk partitionWriter, index int, p PartitionInfo) error {
	var (
		src  io.Reader
		size int64
	)
	if p.source == "" {
		src = bytes.NewReader(p.data)
		size = int64(len(p.data))
	} else {
		f, err := os.Open(p.source)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p.source, err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p.source, err)
		}
		src = f
		size = info.Size()
	}

	pad := int64(p.SizeBytes) - size
	if pad < 0 {
		return fmt.Errorf("partition %d (%s): content of %d bytes exceeds partition size %d", index, p.Name, size, p.SizeBytes)
	}
	if pad > 0 {
		src = io.MultiReader(src, bytes.NewReader(make([]byte, pad)))
	}
	if _, err := dsk.WritePartitionContents(index, src); err != nil {
		return fmt.Errorf("write partition %d (%s): %w", index, p.Name, err)
	}
	return nil
}

// Extract copies every partition of the payload disk at path into dir as
// <dir>/<prefix><index>, emulating the device nodes a VM would see. It
// returns the metadata partition path.
func Extract(path, dir, prefix string) (string, error) {
	dsk, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly), diskfs.WithSectorSize(diskfs.SectorSize512))
	if err != nil {
		return "", fmt.Errorf("open payload disk: %w", err)
	}
	defer dsk.Close()

	table, err := dsk.GetPartitionTable()
	if err != nil {
		return "", fmt.Errorf("read partition table: %w", err)
	}
	count := len(table.GetPartitions())
	if count == 0 {
		return "", fmt.Errorf("payload disk %s has no partitions", path)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	base := filepath.Join(dir, prefix)
	for i := 1; i <= count; i++ {
		target := blockdev.PartitionPath(base, i)
		out, err := os.Create(target)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", target, err)
		}
		_, err = dsk.ReadPartitionContents(i, out)
		closeErr := out.Close()
		if err != nil {
			return "", fmt.Errorf("read partition %d: %w", i, err)
		}
		if closeErr != nil {
			return "", fmt.Errorf("close %s: %w", target, closeErr)
		}
	}
	logger.Logger().Infof("Extracted %d partitions of %s into %s", count, path, dir)
	return blockdev.PartitionPath(base, 1), nil
}

func createDiskFile(path string, sizeBytes uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create payload disk: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(sizeBytes)); err != nil {
		return fmt.Errorf("truncate payload disk: %w", err)
	}
	return nil
}

func alignToSector(size uint64) uint64 {
	if size == 0 {
		return sectorSize
	}
	return ((size + sectorSize - 1) / sectorSize) * sectorSize
}

func partitionName(name string) string {
	if len(name) > maxNameLen {
		return name[:maxNameLen]
	}
	return name
}
