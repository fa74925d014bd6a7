//go:build windows

package sass

func executableName() string { return "sass.bat" }

func archiveExt() string { return ".zip" }
