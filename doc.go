/*
Package buildprof provides building blocks for running many short-lived
external processes with bounded parallelism while streaming their output
through incremental consumers.

Concept

The package is built around three small pieces:

    batch - runs a lazy sequence of asynchronous tasks, at most N in flight;
    process - launches a child process and demultiplexes its streams into sinks;
    digest - a sink that hashes a stream incrementally and resolves to a sum.

A Sink consumes a byte stream chunk by chunk and produces exactly one
final value or error at end-of-stream. A sink is fed by exactly one
owner and its value is observed by exactly one reader. This root package
defines only the sink capability and the logging interface shared by the
subpackages; concrete sinks live in their own packages.

Pipeline

The typical composition is the preprocess-and-hash pipeline: for every
source file of a build, spawn the preprocessor, stream its stdout into a
fresh digest sink and await the hash, with the whole fleet throttled by
the batch operator:

    tasks := make(chan batch.Task[digest.Sum])
    results, err := batch.Each(ctx, tasks, maxConcurrent)

The profile package assembles this pipeline, gitrepo and datacache are
the ordinary I/O collaborators around it, and cmd/buildprof ties the
whole thing into a command line tool.
*/
package buildprof
