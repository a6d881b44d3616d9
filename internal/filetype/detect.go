// Package filetype guesses a file extension from the leading bytes of a file.
package filetype

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/smartdl/smartdl/internal/utils"
)

// HeadSize is how much of a file the classifier looks at.
const HeadSize = 2048

type signature struct {
	label string
	match func(b []byte) bool
}

func prefix(sig ...byte) func([]byte) bool {
	return func(b []byte) bool { return bytes.HasPrefix(b, sig) }
}

func at(offset int, sig ...byte) func([]byte) bool {
	return func(b []byte) bool {
		return len(b) >= offset+len(sig) && bytes.Equal(b[offset:offset+len(sig)], sig)
	}
}

func all(preds ...func([]byte) bool) func([]byte) bool {
	return func(b []byte) bool {
		for _, p := range preds {
			if !p(b) {
				return false
			}
		}
		return true
	}
}

func zipContains(marker string) func([]byte) bool {
	return func(b []byte) bool {
		head := b[:min(len(b), 100)]
		return bytes.Contains(head, []byte(marker))
	}
}

var zipMagic = prefix(0x50, 0x4B, 0x03, 0x04)

// Checked in order, first match wins.
var signatures = []signature{
	// video
	{"mp4", all(prefix(0x00, 0x00, 0x00), at(4, 'f', 't', 'y', 'p'))},
	{"mkv", prefix(0x1A, 0x45, 0xDF, 0xA3)},
	{"avi", all(prefix('R', 'I', 'F', 'F'), at(8, 'A', 'V', 'I'))},
	{"mov", at(4, 'm', 'o', 'o', 'v')},
	// audio
	{"mp3", prefix('I', 'D', '3')},
	{"mp3", func(b []byte) bool { return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0 }},
	{"flac", prefix('f', 'L', 'a', 'C')},
	{"ogg", prefix('O', 'g', 'g', 'S')},
	{"wav", all(prefix('R', 'I', 'F', 'F'), at(8, 'W', 'A', 'V', 'E'))},
	{"m4a", all(prefix(0x00, 0x00, 0x00), at(4, 'm', 'd', 'a', 't'))},
	{"wma", prefix(0x30, 0x26, 0xB2, 0x75)},
	// image
	{"png", prefix(0x89, 'P', 'N', 'G')},
	{"jpg", prefix(0xFF, 0xD8, 0xFF)},
	{"gif", prefix('G', 'I', 'F')},
	{"bmp", prefix('B', 'M')},
	{"tif", prefix('I', 'I', 0x2A, 0x00)},
	{"tif", prefix('M', 'M', 0x00, 0x2A)},
	{"ico", prefix(0x00, 0x00, 0x01, 0x00)},
	{"webp", all(prefix('R', 'I', 'F', 'F'), at(8, 'W', 'E', 'B', 'P'))},
	{"heic", prefix(0x00, 0x18, 0x0C, 0x0A)},
	// documents and archives
	{"pdf", prefix('%', 'P', 'D', 'F')},
	{"doc", prefix(0xD0, 0xCF, 0x11, 0xE0)},
	{"docx", all(zipMagic, zipContains("[Content_Types].xml"))},
	{"xlsx", all(zipMagic, zipContains("xl/"))},
	{"pptx", all(zipMagic, zipContains("ppt/"))},
	{"epub", all(zipMagic, zipContains("mimetypeapplication/epub+zip"))},
	{"jar", all(zipMagic, zipContains("META-INF/MANIFEST.MF"))},
	{"apk", all(zipMagic, zipContains("AndroidManifest.xml"))},
	{"odt", all(zipMagic, zipContains("mimetypeapplication/vnd.oasis.opendocument.text"))},
	{"ods", all(zipMagic, zipContains("mimetypeapplication/vnd.oasis.opendocument.spreadsheet"))},
	{"odp", all(zipMagic, zipContains("mimetypeapplication/vnd.oasis.opendocument.presentation"))},
	{"zip", zipMagic},
	{"rar", prefix('R', 'a', 'r', '!')},
	{"7z", prefix('7', 'z', 0xBC, 0xAF)},
	{"gz", prefix(0x1F, 0x8B)},
	{"bz2", prefix('B', 'Z', 'h')},
	{"xz", prefix(0xFD, '7', 'z', 'X')},
	{"tar", at(257, 'u', 's', 't', 'a', 'r')},
	{"iso", prefix('C', 'D', '0', '0')},
	{"dmg", prefix(0x78, 0x01)},
	// executables
	{"exe", prefix('M', 'Z')},
	{"elf", prefix(0x7F, 'E', 'L', 'F')},
	{"class", prefix(0xCA, 0xFE, 0xBA, 0xBE)},
	{"sh", prefix('#', '!')},
	{"bat", prefix(0xFF, 0xFE)},
	{"macho", prefix(0xCF, 0xFA, 0xED, 0xFE)},
	// other
	{"psd", prefix('8', 'B', 'P', 'S')},
	{"ps", prefix('%', '!')},
	{"deb", prefix('!', '<', 'a', 'r', 'c', 'h', '>')},
	{"plist", prefix('b', 'p', 'l', 'i', 's', 't')},
	{"sqlite", prefix('S', 'Q', 'L', 'i')},
	{"ttf", prefix(0x00, 0x01, 0x00, 0x00)},
	{"otf", prefix('O', 'T', 'T', 'O')},
	{"xml", prefix('<', '?', 'x', 'm', 'l')},
	{"json", prefix('{', '\n')},
	{"html", prefix('<', '!', 'D', 'O', 'C', 'T', 'Y', 'P', 'E')},
	{"txt", prefix(0xEF, 0xBB, 0xBF)},
	{"txt", prefix(0xFE, 0xFF)},
	{"txt", prefix(0x00, 0x00, 0xFE, 0xFF)},
}

type textRule struct {
	label string
	match func(s, lower string) bool
}

func has(subs ...string) func(s, lower string) bool {
	return func(s, _ string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

func starts(prefixes ...string) func(s, lower string) bool {
	return func(s, _ string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				return true
			}
		}
		return false
	}
}

func both(a, b func(s, lower string) bool) func(s, lower string) bool {
	return func(s, lower string) bool { return a(s, lower) && b(s, lower) }
}

// Applied to the trimmed text of the head when no signature matched.
var textRules = []textRule{
	{"py", both(starts("#!/"), has("python"))},
	{"py", starts("# -*- coding:")},
	{"ipynb", both(starts("{"), both(has("cells"), has("nbformat")))},
	{"json", starts("{", "[")},
	{"yaml", func(s, l string) bool { return strings.HasPrefix(s, "---") || strings.Contains(s, ": ") }},
	{"csv", both(has(","), has("\n"))},
	{"tsv", both(has("\t"), has("\n"))},
	{"md", has("# ", "## ", "- ")},
	{"sql", func(_, l string) bool { return strings.Contains(l, "select ") || strings.Contains(l, "create table") }},
	{"html", starts("<html", "<!DOCTYPE html")},
	{"xml", starts("<?xml")},
	{"ini", both(has("="), has("[section]", "[main]", "[DEFAULT]"))},
	{"conf", both(has("="), has(".conf", ".cfg"))},
	{"toml", has("[tool.", "[package]")},
	{"r", func(s, l string) bool { return strings.HasPrefix(s, "# R") || strings.Contains(s, "<- function(") }},
	{"sh", starts("#!/bin/bash", "#!/bin/sh", "#!/usr/bin/env bash")},
	{"js", has("function ", "const ", "let ")},
	{"js", both(has("import "), has("from "))},
	{"ts", has(": string", ": number")},
	{"c", has("#include", "int main(")},
	{"h", both(has("#ifndef"), has("#define"))},
	{"java", has("public class ")},
	{"scala", both(has("object "), has("extends App"))},
	{"go", both(has("package main"), has("func main("))},
	{"rs", both(has("fn main()"), has("extern crate"))},
	{"php", starts("<?php")},
	{"rb", func(s, l string) bool { return strings.HasPrefix(s, "#!/usr/bin/env ruby") || strings.Contains(s, "def ") }},
	{"pl", starts("#!/usr/bin/perl")},
	{"swift", both(has("import Foundation"), has("func "))},
	{"kt", both(has("fun main("), has(": String"))},
	{"dart", both(has("void main()"), has("import 'dart:"))},
	{"lua", both(has("function "), has("end"))},
	{"asm", has("section .text", "global _start")},
	{"npy", has("NumPy format")},
	{"pkl", has("PKL", "pickle")},
	{"joblib", has("joblib")},
	{"h5", has("HDF5")},
	{"mat", has("MATLAB 5.0 MAT-file")},
	{"feather", has("FEATHER")},
	{"parquet", has("PAR1")},
	{"orc", has("ORC")},
	{"avro", has("Objavro")},
	{"rds", has("RDX2")},
	{"rdata", has("RData")},
	{"log", func(_, l string) bool {
		return strings.Contains(l, "error") || strings.Contains(l, "warn") || strings.Contains(l, "info")
	}},
	{"csv", has(",")},
	{"tsv", has("\t")},
}

// Alternative extensions that already name the detected type.
var aliases = map[string][]string{
	"jpg":  {"jpeg", "jpe"},
	"tif":  {"tiff"},
	"mkv":  {"webm", "mka"},
	"mp4":  {"m4v", "m4a", "3gp"},
	"doc":  {"xls", "ppt", "msi", "msg"},
	"gz":   {"tgz"},
	"html": {"htm"},
	"yaml": {"yml"},
	"exe":  {"dll"},
	"zip":  {"jar", "apk", "docx", "xlsx", "pptx", "epub", "odt", "ods", "odp"},
	"mp3":  {"aac"},
}

// DetectSignature matches the binary magic table only.
func DetectSignature(head []byte) string {
	if len(head) < 4 {
		return ""
	}
	for _, sig := range signatures {
		if sig.match(head) {
			return sig.label
		}
	}
	return ""
}

// Detect classifies head by signature and then, for valid UTF-8 text, by content heuristics.
// It returns "" when nothing matches.
func Detect(head []byte) string {
	if label := DetectSignature(head); label != "" {
		return label
	}
	return detectText(head)
}

func detectText(head []byte) string {
	if len(head) > HeadSize {
		head = head[:HeadSize]
	}
	// drop a rune cut in half by the head limit
	for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.Valid(head); i++ {
		head = head[:len(head)-1]
	}
	if len(head) == 0 || !utf8.Valid(head) || bytes.IndexByte(head, 0) >= 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(head))
	lower := strings.ToLower(trimmed)
	for _, rule := range textRules {
		if rule.match(trimmed, lower) {
			return rule.label
		}
	}
	return ""
}

// DetectFile classifies the first HeadSize bytes of the file at path.
func DetectFile(path string) (string, error) {
	head, err := readHead(path)
	if err != nil {
		return "", err
	}
	return Detect(head), nil
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, HeadSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:n], nil
}

// FixExtension renames the file at path so its extension matches the detected type and
// returns the final path with the label. Signatures always apply; the text heuristics only
// name files that have no extension. An existing file at the new name is never replaced.
func FixExtension(path string) (string, string, error) {
	log := utils.GetLogger("filetype")
	head, err := readHead(path)
	if err != nil {
		return path, "", err
	}
	ext := filepath.Ext(path)
	label := DetectSignature(head)
	if label == "" && ext == "" {
		label = detectText(head)
	}
	if label == "" || matchesLabel(ext, label) {
		return path, label, nil
	}
	newPath := utils.RenewOutputPath(strings.TrimSuffix(path, ext) + "." + label)
	if err := os.Rename(path, newPath); err != nil {
		return path, label, err
	}
	log.Debug().Str("from", path).Str("to", newPath).Msg("Renamed by detected type")
	return newPath, label, nil
}

func matchesLabel(ext, label string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == label {
		return true
	}
	for _, alias := range aliases[label] {
		if ext == alias {
			return true
		}
	}
	return false
}
