// Package mongo connects tierkit to MongoDB with the official v2 driver.
//
// StateCollection returns the collection kv.NewMongoStore keeps tenant
// subscription and token documents in; optimistic concurrency is done with
// version-filtered single-document updates, so no transactions or replica
// set features are required.
package mongo
