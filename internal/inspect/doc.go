// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package inspect is the success oracle of the pipeline. It answers a single
// question: does a captured output buffer or log artifact contain a pattern?
//
// Patterns come in two forms, a fixed substring and a regular expression. The
// same Pattern value is used both by remote sessions (waiting for an expected
// line to appear in live output) and by the post-run inspection of artifacts.
//
// Inspection never loads a whole artifact into memory. Literal patterns are
// searched chunk by chunk with an overlap window, and regular expressions are
// matched through an io.RuneReader. All functions are pure: they do not modify
// the artifact and repeated calls on an unmodified file return the same result.
//
// A pattern that is absent because the capture was truncated is reported the
// same way as a pattern that is absent because the remote command failed.
package inspect
