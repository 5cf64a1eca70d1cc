// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package config defines the format-agnostic pipeline definition and the
// Loader interface that produces it.
//
// A Model fully describes one run: the experiment to allocate, how roles map
// to provider nodes, how to reach hosts, and the commands and markers of every
// stage. Concrete loaders, such as the HCL one, live in separate packages.
package config
