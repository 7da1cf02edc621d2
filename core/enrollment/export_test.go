package enrollment

// ApplyProgress gives the external tests the shared progress write path, so they can replay a
// lookup made before a concurrent cancellation.
var ApplyProgress = (*Service).applyProgress
