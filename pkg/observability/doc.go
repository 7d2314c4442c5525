/*
Package observability turns engine lifecycle hooks into metrics and logs.

Metrics registers Prometheus collectors and exposes them as a
domain.LifecycleHooks value; Combine fans several hook sets out so metrics,
logging and custom callbacks can observe the same engine.
*/
package observability
