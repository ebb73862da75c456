// Package rpc defines the ReportService gRPC contract between pagescore-agent
// and pagescore-server.
//
// Messages are plain Go structs from pkg/types carried by a JSON codec
// registered under the content subtype "json", so no generated protobuf code
// is involved. Both ends must import this package for the codec to be
// registered.
package rpc
