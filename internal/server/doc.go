// Package server hosts the Fiber preview service used by the -serve mode. It
// serves the publish directory as static files so the rewritten
// /rehype-og-card/<key> image paths resolve locally, stamps every request with
// an X-Request-ID, and leaves the /-/ prefix free for diagnostics routes
// registered by the routes subpackage. It also owns the shared HTTP client used
// to fetch remote pages and images.
package server
