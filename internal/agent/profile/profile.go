// Package profile reads and writes the agent's persisted capacity profile:
// a plain text key-value file, generated once at startup and reused on
// every subsequent boot.
package profile

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nodemesh/meshlb/internal/meshapi"
)

const fileName = "profile.conf"

// Profile is the agent's immutable-once-written capacity profile.
type Profile struct {
	ServerName string
	Region     string
	MaxUsers   int
	Port       int
	Location   meshapi.Location
}

// Path returns the profile file's location under stateDir.
func Path(stateDir string) string {
	return filepath.Join(stateDir, fileName)
}

// Load reads a previously persisted profile. It returns os.ErrNotExist
// (wrapped) when no profile has been written yet.
func Load(stateDir string) (*Profile, error) {
	f, err := os.Open(Path(stateDir))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	p := &Profile{
		ServerName: fields["server_name"],
		Region:     fields["region"],
	}
	p.MaxUsers, _ = strconv.Atoi(fields["max_users"])
	p.Port, _ = strconv.Atoi(fields["port"])
	p.Location = parseLocation(fields["location"])
	return p, nil
}

// parseLocation parses the inline "{lat: .., lon: .., city: ..}" form.
func parseLocation(raw string) meshapi.Location {
	var loc meshapi.Location
	raw = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "{"), "}")
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		switch key {
		case "lat":
			loc.Lat, _ = strconv.ParseFloat(value, 64)
		case "lon":
			loc.Lon, _ = strconv.ParseFloat(value, 64)
		case "city":
			loc.City = value
		}
	}
	return loc
}

// Save persists the profile in the key-value format spec'd for operator
// inspection, overwriting any prior file.
func Save(stateDir string, p *Profile) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	body := fmt.Sprintf(
		"server_name: %s\nregion: %s\nmax_users: %d\nport: %d\nlocation: {lat: %v, lon: %v, city: %s}\n",
		p.ServerName, p.Region, p.MaxUsers, p.Port, p.Location.Lat, p.Location.Lon, p.Location.City,
	)
	tmp := Path(stateDir) + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return os.Rename(tmp, Path(stateDir))
}

// GenerateServerName synthesizes a server_name of the form
// <CITY>-NODE-<NNN> when none is configured.
func GenerateServerName(city string) string {
	if city == "" {
		city = "NODE"
	}
	return fmt.Sprintf("%s-NODE-%03d", strings.ToUpper(city), rand.Intn(1000))
}
