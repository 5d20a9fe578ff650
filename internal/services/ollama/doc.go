// Package ollama implements the captioning engine against a local Ollama
// server.
//
// # Model Lifecycle
//
// Load resolves the configured model name plus the profile quantization into
// a concrete tag (see ModelTag) and issues a warm-up generate call so the
// first caption does not pay the load cost. Unload asks the server to evict
// the model immediately by sending keep_alive 0. ClearCache is a no-op: the
// server owns its transient memory.
//
// # Captioning
//
// Generate re-encodes the prepared image as PNG, attaches it base64-encoded
// to a single user chat message, and maps the sampling parameters onto model
// options (temperature, top_p, top_k, repeat_penalty, num_predict). CPU
// profiles additionally pin num_gpu to 0 so the server does not offload
// layers to a GPU.
//
// # Retry Behaviour
//
// Requests retry on HTTP 408/429/5xx and network timeouts with exponential
// backoff (base 1s, max 10s, up to 3 attempts by default). Memory-exhaustion
// responses are never retried here; the resource manager owns that path and
// reacts by degrading the load profile.
package ollama
