package reliability

// IsRetryableHTTPStatus classifies HTTP status codes whose failures are worth
// retrying from the UI. The pipeline itself never retries automatically: the
// flag rides along on error events as a hint to the renderer.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
