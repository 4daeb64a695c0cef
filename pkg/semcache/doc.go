// Package semcache caches responses to expensive generative calls keyed by
// semantic similarity of the prompt, so reworded prompts that mean the same
// thing reuse a prior answer instead of re-invoking the upstream model.
//
// Lookups take two paths. The exact path hashes the normalized prompt and
// needs no embedding call. The semantic path embeds the prompt and scans
// live entries for the best cosine-similarity match at or above a threshold.
//
// Entries live in two tiers: a Redis-backed durable store shared across
// process instances (authoritative while reachable) and a bounded in-memory
// mirror owned by the process. Durable-store outages and embedding failures
// degrade to misses or volatile-only operation; they are never surfaced to
// callers.
package semcache
