/*
Package javamgr finds and installs the Java runtimes that servers run
on.

Detect merges runtimes discovered on the host (platform.DiscoverJava)
with runtimes this package installed under the data directory's
runtimes/ tree, deduplicated by resolved path. Install downloads a
Temurin JRE for the requested major from the Adoptium API, extracts the
tar.gz or zip with path-traversal checks, and probes the resulting
binary before reporting success. RemoveManaged deletes an installed
runtime but refuses paths outside the managed tree.

RequiredMajor maps a Minecraft version to the Java major it needs
(1.20.5+ wants 21, 1.18+ wants 17, 1.17 wants 16, older runs on 8)
using hashicorp/go-version for the comparisons. Callers use it to warn,
not to block: a newer runtime usually works and operators may know
better.
*/
package javamgr
