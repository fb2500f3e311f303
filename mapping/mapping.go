// Package mapping loads the old-UUID -> new-UUID table that drives a
// remapping run, from any of the source kinds the CLI accepts: a plain CSV
// or JSON table, a name list to be resolved against Mojang or hashed into
// offline UUIDs, a usercache.json, or an offline-to-offline rename CSV.
package mapping

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Kind selects how a mapping Source is interpreted.
type Kind int

const (
	// Csv reads a two-column old-uuid,new-uuid CSV (header line skipped).
	Csv Kind = iota
	// Json reads a JSON object of old-uuid -> new-uuid.
	Json
	// ListToOffline reads a name list and maps each name's online UUID to
	// its offline UUID.
	ListToOffline
	// ListToOnline reads a name list and maps each name's offline UUID to
	// its online UUID.
	ListToOnline
	// UsercacheToOffline reads names out of a usercache.json and maps
	// online to offline UUIDs.
	UsercacheToOffline
	// UsercacheToOnline reads names out of a usercache.json and maps
	// offline to online UUIDs.
	UsercacheToOnline
	// OfflineRenameCsv reads a two-column old-name,new-name CSV and maps
	// the offline UUID of each old name to the offline UUID of the new one.
	OfflineRenameCsv
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Load reads a mapping of kind from path.
func Load(kind Kind, path string) (map[uuid.UUID]uuid.UUID, error) {
	switch kind {
	case Csv:
		return loadCSV(path)
	case Json:
		return loadJSON(path)
	case ListToOffline:
		names, err := loadNameList(path)
		if err != nil {
			return nil, err
		}
		return composeInverse(onlineUUIDs(names), offlineUUIDs(names)), nil
	case ListToOnline:
		names, err := loadNameList(path)
		if err != nil {
			return nil, err
		}
		return composeInverse(offlineUUIDs(names), onlineUUIDs(names)), nil
	case UsercacheToOffline:
		names, err := loadNameListFromUsercache(path)
		if err != nil {
			return nil, err
		}
		return composeInverse(onlineUUIDs(names), offlineUUIDs(names)), nil
	case UsercacheToOnline:
		names, err := loadNameListFromUsercache(path)
		if err != nil {
			return nil, err
		}
		return composeInverse(offlineUUIDs(names), onlineUUIDs(names)), nil
	case OfflineRenameCsv:
		return loadOfflineRename(path)
	default:
		return nil, fmt.Errorf("unknown mapping kind %d", kind)
	}
}

func loadCSV(path string) (map[uuid.UUID]uuid.UUID, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading mapping csv")
	}
	out := map[uuid.UUID]uuid.UUID{}
	lines := strings.Split(string(raw), "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) != 2 {
			continue
		}
		from, err := uuid.Parse(strings.TrimSpace(cols[0]))
		if err != nil {
			continue
		}
		to, err := uuid.Parse(strings.TrimSpace(cols[1]))
		if err != nil {
			continue
		}
		out[from] = to
	}
	return out, nil
}

func loadJSON(path string) (map[uuid.UUID]uuid.UUID, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading mapping json")
	}
	out := map[uuid.UUID]uuid.UUID{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "parsing mapping json")
	}
	return out, nil
}

func loadNameList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading name list")
	}
	var names []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func loadNameListFromUsercache(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading usercache")
	}
	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrap(err, "parsing usercache")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

func loadOfflineRename(path string) (map[uuid.UUID]uuid.UUID, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading offline rename csv")
	}
	out := map[uuid.UUID]uuid.UUID{}
	lines := strings.Split(string(raw), "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) != 2 {
			continue
		}
		out[OfflineUUID(strings.TrimSpace(cols[0]))] = OfflineUUID(strings.TrimSpace(cols[1]))
	}
	return out, nil
}

// composeInverse returns { (x, y) | exists name: a[name] = x and b[name] = y }.
func composeInverse(a, b map[string]uuid.UUID) map[uuid.UUID]uuid.UUID {
	out := map[uuid.UUID]uuid.UUID{}
	for name, x := range a {
		if y, ok := b[name]; ok {
			out[x] = y
		}
	}
	return out
}

const mojangBatchSize = 10

type mojangProfile struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// onlineUUIDs resolves a batch of player names against the Mojang profile
// lookup API, 10 names per request, retrying transient failures with
// exponential backoff. Names that fail to resolve are simply absent from
// the result.
func onlineUUIDs(names []string) map[string]uuid.UUID {
	out := map[string]uuid.UUID{}
	for i := 0; i < len(names); i += mojangBatchSize {
		end := i + mojangBatchSize
		if end > len(names) {
			end = len(names)
		}
		batch := names[i:end]
		profiles, err := fetchMojangBatch(batch)
		if err != nil {
			continue
		}
		for _, p := range profiles {
			out[p.Name] = p.ID
		}
	}
	return out
}

func fetchMojangBatch(names []string) ([]mojangProfile, error) {
	body, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}

	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
	client := &http.Client{Timeout: 10 * time.Second}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(b.Duration())
		}
		resp, err := client.Post("https://api.mojang.com/profiles/minecraft", "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		var profiles []mojangProfile
		decErr := json.NewDecoder(resp.Body).Decode(&profiles)
		resp.Body.Close()
		if decErr != nil {
			lastErr = decErr
			continue
		}
		return profiles, nil
	}
	return nil, errors.Wrap(lastErr, "fetching mojang profiles")
}

func md5Sum(data []byte) [16]byte {
	return md5.Sum(data)
}

func offlineUUIDs(names []string) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(names))
	for _, name := range names {
		out[name] = OfflineUUID(name)
	}
	return out
}

// OfflineUUID computes the UUID a vanilla offline-mode server derives for a
// player name: MD5("OfflinePlayer:"+name), then forced to UUID version 3
// and the IETF variant the same way the JDK's UUID.nameUUIDFromBytes does.
func OfflineUUID(name string) uuid.UUID {
	sum := md5Sum([]byte("OfflinePlayer:" + name))
	sum[6] &= 0x0f
	sum[6] |= 0x30
	sum[8] &= 0x3f
	sum[8] |= 0x80
	return uuid.UUID(sum)
}
