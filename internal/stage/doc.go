// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package stage runs named units of remote work.
//
// A Runner executes one Task against one role's host and always leaves exactly
// one local artifact named after the stage and role. A Group fans a Stage out
// to every role concurrently, joins, and then inspects each artifact for the
// stage's success marker. A group succeeds only when every member both
// completed its command sequence and produced the marker.
package stage
