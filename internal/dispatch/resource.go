package dispatch

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// estimateFootprint implements the resource-check heuristic: model file
// size × a size-tier multiplier, plus a size-tier overhead, in bytes.
func estimateFootprint(modelPath string) (uint64, error) {
	info, err := os.Stat(modelPath)
	if err != nil {
		return 0, fmt.Errorf("stat model file: %w", err)
	}
	size := uint64(info.Size())

	const (
		mb = 1024 * 1024
		gb = 1024 * mb
	)
	var multiplier float64
	var overhead uint64
	switch {
	case size <= 3000*mb:
		multiplier, overhead = 1.2, 256*mb
	case size <= 6000*mb:
		multiplier, overhead = 1.25, 512*mb
	default:
		multiplier, overhead = 1.3, 1024*mb
	}
	return uint64(float64(size)*multiplier) + overhead, nil
}

// availableMemoryBytes reads MemAvailable from /proc/meminfo. Returns an
// error when the value cannot be determined, in which case the init/
// lora_init resource check is skipped rather than guessed.
func availableMemoryBytes() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("unparsable MemAvailable line: %q", line)
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("MemAvailable not found in /proc/meminfo")
}

var versionTokenRE = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// defaultModelVersion is the fallback version assumed when a file's header
// carries no detectable X.Y.Z token, mirroring extract_model_version's
// fallback to the current runtime version rather than an unknown sentinel.
const defaultModelVersion = "1.2.1"

// loraVersionCompatible scans the first 4 KiB of each file for a version
// token of the form X.Y.Z and compares major.minor.patch, defaulting either
// side to defaultModelVersion when no token is found — a missing token is
// not auto-compatible, since the default itself can legitimately mismatch
// the other file's real version.
func loraVersionCompatible(basePath, adapterPath string) (bool, error) {
	baseVer, err := scanVersionToken(basePath)
	if err != nil {
		return false, err
	}
	if baseVer == "" {
		baseVer = defaultModelVersion
	}
	adapterVer, err := scanVersionToken(adapterPath)
	if err != nil {
		return false, err
	}
	if adapterVer == "" {
		adapterVer = defaultModelVersion
	}
	return baseVer == adapterVer, nil
}

func scanVersionToken(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	const headerSize = 4096
	buf := make([]byte, headerSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	m := versionTokenRE.FindSubmatch(buf[:n])
	if m == nil {
		return "", nil
	}
	return string(m[1]) + "." + string(m[2]) + "." + string(m[3]), nil
}
