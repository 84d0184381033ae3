// Package stages provides byte-processing pipeline stages meant to sit on
// link endpoints: a digest tee, LZ4 compression, authenticated sealing,
// and Reed-Solomon shard fan-out.
//
// Every writer stage forwards Flush and Close to what it wraps, so a chain
// of stages behind a link's pass-through sink or a pump destination shuts
// down in order when the producing side closes. Stages follow the same
// single-goroutine discipline as the endpoints they wrap.
package stages
