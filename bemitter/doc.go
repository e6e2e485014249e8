// Package bemitter contains a demand-driven event broadcast.
//
// An [Emitter] delivers discrete values from a single producer
// to any number of subscribers.
// Values are retained in a fixed-capacity ring shared by all subscribers;
// a subscriber that falls more than the capacity behind
// receives a [LaggedError] reporting how many values it missed,
// and then resumes from the oldest value still retained.
//
// The producer is started by [New] but stays dormant until the first
// call to [*Emitter.Listen]. Each activation hands the producer a fresh
// [*Publisher] through its [*PublisherStream]. The publisher's
// [*Publisher.AllUnsubscribed] channel tells the producer when
// it may go dormant again.
//
// [Map], [Filter], [FilterMut] and [FilterMap] derive new emitters
// from an existing one. A derived emitter only holds a subscription
// on its upstream while it has subscribers of its own.
package bemitter
