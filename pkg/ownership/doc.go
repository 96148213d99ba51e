// Package ownership resolves the top-level owners of Kubernetes objects by
// walking their ownerReferences. A Resolver caches the direct owners of every
// object it visits and the discovered API shapes until Reset is called, which
// the polling loop does once per cycle.
package ownership
