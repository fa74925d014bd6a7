//go:build !windows

package sass

func executableName() string { return "sass" }

func archiveExt() string { return ".tar.gz" }
