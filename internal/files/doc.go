// Package files provides file system discovery and move utilities for the
// harvester output tree.
//
// Discovery finds the newest portal export in the output root and walks the
// record folders for downloaded attachments:
//
//	discovery := files.NewDiscovery(paths.OutputDir, "download_log.csv")
//	latest, err := discovery.LatestExport("")
//	pdfs, err := discovery.FindAttachments("", []string{".pdf"})
//
// MoveFile and CopyFile move browser downloads out of the staging directory.
package files
