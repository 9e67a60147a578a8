//go:build darwin

package machobin

/*
#include <mach-o/dyld.h>
#include <stdint.h>

extern void ksmoGoAddImageCallback(const struct mach_header *mh, intptr_t slide);
extern void ksmoGoRemoveImageCallback(const struct mach_header *mh, intptr_t slide);

static void ksmo_register_dyld_callbacks(void) {
	_dyld_register_func_for_add_image(ksmoGoAddImageCallback);
	_dyld_register_func_for_remove_image(ksmoGoRemoveImageCallback);
}
*/
import "C"

import (
	"unsafe"

	"github.com/dispatchrun/kscrash/internal/machkit"
)

// Default is the process-wide cache populated by RegisterDyldCallbacks. The
// sentries and report writer consult this one instance; tests construct
// their own via NewCache instead.
var Default = NewCache()

var selfProbe = machkit.NewSelfProbe()

// RegisterDyldCallbacks installs dyld add/remove-image callbacks that keep
// Default in sync with the process's actual loaded-image set (spec.md §4.5:
// "the image list must reflect dlopen/dlclose as they happen", mirroring
// KSCrash's own _dyld_register_func_for_add_image usage).
func RegisterDyldCallbacks() {
	C.ksmo_register_dyld_callbacks()
}

//export ksmoGoAddImageCallback
func ksmoGoAddImageCallback(mh *C.struct_mach_header, slide C.intptr_t) {
	addr := uint64(uintptr(unsafe.Pointer(mh)))
	img, err := Walk(selfProbe, addr, int64(slide), "")
	if err != nil && img == nil {
		return
	}
	Default.Add(img)
}

//export ksmoGoRemoveImageCallback
func ksmoGoRemoveImageCallback(mh *C.struct_mach_header, slide C.intptr_t) {
	addr := uint64(uintptr(unsafe.Pointer(mh)))
	Default.Remove(addr)
}
