// Package crawler defines the core types, interfaces, and sentinel errors
// shared by the extraction pipeline: jobs, URL tasks, fetch requests,
// extracted entities and relations, and the collaborator contracts that the
// registry, worker pool, and graph sink are wired through.
package crawler
