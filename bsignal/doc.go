// Package bsignal contains a demand-driven, coalescing value broadcast.
//
// A [Signal] always holds a current value.
// Subscribers observe that value immediately,
// and [*Subscription.Changed] reports when a newer value has been published.
// Intermediate values published between two observations are never seen;
// only the latest one matters, so a slow subscriber never loses anything
// it would have cared about.
//
// Like package bemitter, the producer runs only while
// at least one subscription exists.
package bsignal
