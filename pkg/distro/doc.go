/*
Package distro resolves a (distribution, version) pair to a concrete
server jar artifact by talking to the upstream registries.

# Supported Distributions

	paper    PaperMC downloads API (latest build for the version)
	vanilla  Mojang launcher manifest
	fabric   Fabric meta (launcher-style server jar for the latest
	         stable loader and installer)
	purpur   PurpurMC downloads API
	forge    Forge promotions (recommended build, falling back to
	         latest)

Resolve returns an Artifact: the download URL, the registry's digest
when one is published (Paper and vanilla publish sha256/sha1, Fabric and
Forge do not), and the upstream build identifier for display. Versions
lists the versions a registry offers, newest first; snapshots are
filtered out unless asked for.

All HTTP goes through fetch.Client, so registry calls inherit its retry
and timeout behavior. The resolver holds no state and performs no
caching; the lifecycle engine only resolves on create and on jar
re-fetch, which keeps the call rate trivial.
*/
package distro
