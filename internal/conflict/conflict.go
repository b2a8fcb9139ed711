// Package conflict decides which value survives when a local write and the
// server state disagree.
package conflict

import (
	"github.com/confsync/confsync/internal/value"
)

// Strategy names a conflict resolution policy.
type Strategy string

const (
	// StrategyServerWins always keeps the remote value.
	StrategyServerWins Strategy = "server_wins"
	// StrategyClientWins always keeps the local value.
	StrategyClientWins Strategy = "client_wins"
	// StrategyTimestamp keeps the value with the greater timestamp. Exact
	// ties keep the remote value, so every client facing the same server
	// state converges on the same winner.
	StrategyTimestamp Strategy = "timestamp_based"
	// StrategyMergeDeep merges object values key by key, resolving leaf
	// conflicts like StrategyTimestamp. Non-object values fall back to
	// StrategyTimestamp entirely.
	StrategyMergeDeep Strategy = "merge_deep"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyServerWins, StrategyClientWins, StrategyTimestamp, StrategyMergeDeep:
		return Strategy(s), nil
	}
	return "", &UnknownStrategyError{Name: s}
}

// Source tells where a resolution's value came from.
type Source string

const (
	// SourceLocal means the local candidate won.
	SourceLocal Source = "local"
	// SourceRemote means the remote candidate won.
	SourceRemote Source = "remote"
	// SourceMerged means the value combines both candidates.
	SourceMerged Source = "merged"
)

// Candidate is one side of a conflict. Version is the candidate's write
// timestamp in Unix milliseconds.
type Candidate struct {
	Value   value.Value
	Version int64
}

// Resolution is the surviving value. Version carries the winning
// candidate's timestamp, or the greater of the two for merges.
type Resolution struct {
	Value   value.Value
	Source  Source
	Version int64
}

// Resolver applies a global strategy with optional per-key overrides.
type Resolver struct {
	fallback Strategy
	byKey    map[string]Strategy
}

// NewResolver builds a resolver from configured strategy names. The byKey
// map overrides the fallback for individual settings keys.
func NewResolver(fallback string, byKey map[string]string) (*Resolver, error) {
	def, err := ParseStrategy(fallback)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		fallback: def,
		byKey:    make(map[string]Strategy, len(byKey)),
	}
	for key, name := range byKey {
		s, err := ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		r.byKey[key] = s
	}

	return r, nil
}

// StrategyFor returns the strategy governing one settings key.
func (r *Resolver) StrategyFor(key string) Strategy {
	if s, exists := r.byKey[key]; exists {
		return s
	}
	return r.fallback
}

// Resolve decides between a local write and the remote state for a key.
// The result is deterministic for a given pair of candidates.
func (r *Resolver) Resolve(key string, local, remote Candidate) Resolution {
	switch r.StrategyFor(key) {
	case StrategyClientWins:
		return Resolution{Value: local.Value, Source: SourceLocal, Version: local.Version}
	case StrategyTimestamp:
		return byTimestamp(local, remote)
	case StrategyMergeDeep:
		return mergeDeep(local, remote)
	}

	return Resolution{Value: remote.Value, Source: SourceRemote, Version: remote.Version}
}

// byTimestamp keeps the younger candidate. Ties keep the remote one.
func byTimestamp(local, remote Candidate) Resolution {
	if local.Version > remote.Version {
		return Resolution{Value: local.Value, Source: SourceLocal, Version: local.Version}
	}
	return Resolution{Value: remote.Value, Source: SourceRemote, Version: remote.Version}
}

// mergeDeep combines two object values key by key. Keys present on one
// side only are kept, shared object keys recurse, any other shared key is
// a leaf conflict settled by timestamp.
func mergeDeep(local, remote Candidate) Resolution {
	localEntries, localIsObject := local.Value.Entries()
	remoteEntries, remoteIsObject := remote.Value.Entries()
	if !localIsObject || !remoteIsObject {
		return byTimestamp(local, remote)
	}

	merged := mergeMaps(localEntries, remoteEntries, local.Version, remote.Version)

	v, err := value.Object(merged)
	if err != nil {
		// both inputs were valid objects, the union of their entries is too
		return byTimestamp(local, remote)
	}

	version := remote.Version
	if local.Version > version {
		version = local.Version
	}

	return Resolution{Value: v, Source: SourceMerged, Version: version}
}

func mergeMaps(local, remote map[string]interface{}, localVersion, remoteVersion int64) map[string]interface{} {
	out := make(map[string]interface{}, len(local)+len(remote))
	for k, v := range local {
		out[k] = v
	}

	for k, remoteLeaf := range remote {
		localLeaf, shared := out[k]
		if !shared {
			out[k] = remoteLeaf
			continue
		}

		localMap, localOK := localLeaf.(map[string]interface{})
		remoteMap, remoteOK := remoteLeaf.(map[string]interface{})
		if localOK && remoteOK {
			out[k] = mergeMaps(localMap, remoteMap, localVersion, remoteVersion)
			continue
		}

		if localVersion > remoteVersion {
			out[k] = localLeaf
		} else {
			out[k] = remoteLeaf
		}
	}

	return out
}
