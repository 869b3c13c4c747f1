package version

// Version is the current release of the sentinel server & CLI
const Version = "0.1.0"
