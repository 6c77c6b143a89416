/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

const (
	LIB_NAME    = "perch"
	LIB_VERSION = "0.1.0"
)
