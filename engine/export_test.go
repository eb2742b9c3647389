package engine

var WithSleep = withSleep
